/*
Package config loads photonet configuration from YAML, JSON or HCL files.

	            +-------------+
	            |   Config    |
	            | (Settings)  |
	            +------+------+
	                   |
	      +------------+------------+
	      |            |            |
	+-----+----+ +-----+----+ +-----+----+
	|   YAML   | |   JSON   | |   HCL    |
	|  Parser  | |  Parser  | |  Parser  |
	+----------+ +----------+ +----------+

🎯 Purpose:
- Picks a parser from the file extension
- Rejects unknown fields
- Fills defaults and parses durations in Validate
- Maps settings onto netmgr.Options and retry.Policy

🔍 Example:

	transfer_width: 4
	request_timeout: 30s
	photo_dir: /var/cache/gallery
	retry:
	  max_retries: 5
	  backoff: exponential
	  initial_delay: 1s
	  max_delay: 1m
	  reachability: true
*/
package config
