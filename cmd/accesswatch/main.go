// accesswatch runs the access-control monitoring dashboard backend, a
// headless dashboard watcher, or an MCP tool server.
package main

func main() {
	Execute()
}
