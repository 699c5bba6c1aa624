package main

import "github.com/rudransh-shrivastava/peer-tracker/internal/cmd"

func main() {
	cmd.Execute()
}
