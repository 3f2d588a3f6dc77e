/*
	Copyright 2024 PitBox Racing
*/

package main

import "github.com/pitbox-racing/pitbox-relay-go/cmd"

func main() {
	cmd.Execute()
}
