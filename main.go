package main

import "github.com/Zerofisher/haestore/cmd"

func main() {
	cmd.Execute()
}
