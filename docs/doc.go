// Package docs provides the OpenAPI documentation.
//
// scoreshelf API
//
//	@title			scoreshelf API
//	@version		1.0
//	@description	Smart Upload ingestion for sheet music: upload, AI split, review and commit into the library.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/scoreshelf
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
//
//	@securityDefinitions.apikey	UserID
//	@in							header
//	@name						X-User-ID
//
//	@securityDefinitions.apikey	ServiceToken
//	@in							header
//	@name						X-Internal-Service-Token
package docs

//go:generate swag init -g ../docs/doc.go -d ../internal/server/endpoints,../docs -o ./swagger --parseDependency --parseInternal
