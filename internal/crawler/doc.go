// Package crawler defines the types and collaborator interfaces shared by the
// mirror's fetch, rewrite and write stages.
package crawler
