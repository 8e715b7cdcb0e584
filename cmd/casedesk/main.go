package main

import "casedesk/cmd/casedesk/command"

func main() {
	command.Execute()
}
