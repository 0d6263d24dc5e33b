// Package ratelimit is a per-client token bucket for the public listener.
//
// State lives in process memory and is not shared between instances. It
// blunts a single address hammering the server and shows who was denied;
// it does nothing against traffic spread over many addresses.
package ratelimit
