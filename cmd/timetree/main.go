package main

import _ "time/tzdata" // IANA zones for --timezone on hosts without zoneinfo

func main() {
	Execute()
}
