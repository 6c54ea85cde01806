// Command restygraphctl runs the bridge outside nginx: an HTTP front door,
// a schema configuration checker and an NDJSON task replayer.
package main

func main() {
	Execute()
}
