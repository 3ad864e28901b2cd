// Package api provides the status and dead-letter inspection REST API
// @title EstateChain Indexer API
// @version 1.0
// @description REST API for monitoring the sync progress of the EstateChain event indexer
// @contact.name API Support
// @contact.url https://github.com/estatechain/indexer
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
