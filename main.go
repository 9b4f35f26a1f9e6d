package main

import "github.com/samsaffron/llmloop/cmd"

func main() {
	cmd.Execute()
}
