package main

import "github.com/Zerofisher/pktcanalyzer/cmd"

func main() {
	cmd.Execute()
}
