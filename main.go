package main

import "github.com/nextlevelbuilder/clawtalk/cmd"

func main() {
	cmd.Execute()
}
