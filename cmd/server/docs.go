// Package main Clipboard Push Relay API
//
//	@title			Clipboard Push Relay API
//	@version		1.0
//	@description	Signaling, relay and storage API for paired clipboard-push devices
//
//	@contact.name	Clipboard Push
//	@contact.url	https://github.com/clipboardpush/clipboard-push-server
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:5055
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT token (format: Bearer <token>)
package main
