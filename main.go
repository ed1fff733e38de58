/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "packrat/cmd"

func main() {
	cmd.Execute()
}
