package main

import "github.com/iksnae/chatark/cmd"

func main() {
	cmd.Execute()
}
