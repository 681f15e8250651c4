// Package testutil contains helper builders used across tests to reduce
// boilerplate when seeding channels (agents, users, memberships, messages)
// and scripting model streams. They are not intended for production usage.
package testutil
