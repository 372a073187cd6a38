// Package apiresponses provides the {success, message} response helpers
// shared by the api, relay and ratelimit packages without import cycles.
package apiresponses
