package main

import "github.com/andresmejia3/fogwatch/cmd"

func main() {
	cmd.Execute()
}
