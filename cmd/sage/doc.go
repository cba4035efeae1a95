// Command sage resolves donor records from many source systems into canonical donor profiles.
//
// Usage:
//
//	sage resolve --sources sources.yaml --input crm=crm.csv --input events=events.jsonl
//	sage serve
//	sage runs
//	sage entity <entity-id>
//	sage migrate
//
// Settings come from the environment (and a .env file when present); see config.Config.
package main
