package main

import "github.com/surge-downloader/hlsget/cmd"

func main() {
	cmd.Execute()
}
