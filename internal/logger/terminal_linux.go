//go:build linux

package logger

// TCGETS fetches the terminal attributes on Linux.
const ioctlTermiosReq = 0x5401
