// Command odatagate serves an entity data model over HTTP with routes
// derived by the OData routing conventions.
package main

func main() {
	Execute()
}
