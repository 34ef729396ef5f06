package main

// General API documentation for swaggo. Run `swag init` with the swagger
// build tag to generate docs.
//
// @title           imaged API
// @version         1.0
// @description     HTTP API for text-to-image generation and fine-tuning orchestration.
//
// @contact.name   imaged maintainers
// @contact.url    https://github.com/your-org/imaged
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
