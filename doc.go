/*
Package checkloop runs agent tasks with script-validated retry loops.

It drives a task prompt against an external reasoning engine, validates the
agent's final message with a user-supplied script (python or javascript),
and feeds the script's stdout back to the agent as a follow-up until the
check passes or the retry budget runs out.

# Concept

The validation script is the contract: it receives the agent's last message
in the AI_LAST_MESSAGE environment variable and votes with its standard
output. An empty output or the literal "true" passes; anything else is
treated as feedback and sent back to the agent verbatim.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/checkloop/checkloop"
	)

	func main() {
		ctx := context.Background()

		app, err := checkloop.New(ctx, "http://127.0.0.1:4096")
		if err != nil {
			log.Fatal(err)
		}
		defer app.Close()

		result, err := app.Run(ctx, checkloop.Task{
			Prompt:     "Write a README with installation instructions",
			Script:     "validate.py",
			MaxRetries: 3,
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(result.LastMessage)
	}
*/
package checkloop
