/*
Package api defines the HTTP surface of the eSIM operator registry.

The package holds the request and response bodies shared by the server and
its clients, and the server configuration. Subpackages:

 1. server - chi HTTP server with basic auth, request logging, health and drain endpoints
 2. esimhandler - handlers for registration, operator changes, history and the ledger mirror journal, plus the matching client

Every response body carries a "status" of "success", "error" or "partial".
"partial" means the request was applied to the local registry but its ledger
mirror is still pending.
*/
package api
