package main

import "offer-sync-alerts/internal/cli"

func main() {
	cli.Execute()
}
