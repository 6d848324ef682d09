// Command downloader fetches web pages concurrently and saves each response
// body under a file name derived from its URL.
package main

import (
	"os"

	"github.com/JakeFAU/page-downloader/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
