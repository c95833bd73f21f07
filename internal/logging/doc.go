// Package logging writes structured JSON logs to a size-rotated file under
// ~/.hybridsearch/logs/ and reads them back for the logs command.
//
// CLI commands tee to stderr when --debug is set. The MCP server never
// writes to stderr or stdout, which carry the protocol stream.
package logging
