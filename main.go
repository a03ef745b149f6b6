package main

import "github.com/sokopay/ms-go-mpesa/cmd"

func main() {
	cmd.Execute()
}
