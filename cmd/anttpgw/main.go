package main

import "github.com/JakeFAU/anttp-gateway/cmd"

func main() {
	cmd.Execute()
}
