package main

// General API documentation for swaggo. Run `swag init -g cmd/tensord/docs.go` to regenerate docs.
//
// @title           tensord API
// @version         1.0
// @description     HTTP API for batched tensor inference over a model repository.
//
// @contact.name   tensord maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
