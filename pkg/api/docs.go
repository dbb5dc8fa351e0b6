// Package api provides the REST status API of ChainMapper
// @title ChainMapper API
// @version 1.0
// @description Indexing status, proof-of-index records, active datasources and indexed entities
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/ChainMapper
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
