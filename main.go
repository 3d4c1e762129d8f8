package main

import "github.com/frahmantamala/booking-payments/cmd"

func main() {
	cmd.Execute()
}
