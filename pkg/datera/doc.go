// Package datera implements the client for the storage array's JSON
// REST API: app instances (volumes), initiators, initiator groups, and
// ACL assignment.
package datera
