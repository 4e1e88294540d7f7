// Package report renders queue snapshots as spreadsheets for the people who
// review flagged calls outside the CLI.
package report
