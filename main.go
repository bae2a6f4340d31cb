package main

import "github.com/nextlevelbuilder/cronbox/cmd"

func main() {
	cmd.Execute()
}
