// Command sportsfeed runs the document ingestion pipeline.
package main

import "github.com/pickemhq/sportsfeed/cmd"

func main() {
	cmd.Execute()
}
