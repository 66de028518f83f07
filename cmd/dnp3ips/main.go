// Command dnp3ips inspects DNP3 traffic from pcap files or live interfaces.
package main

import "github.com/wiretap/dnp3ips/internal/cli"

func main() {
	cli.Execute()
}
