// The main package for the companyscraper executable.
package main

import (
	"github.com/JakeFAU/company-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
