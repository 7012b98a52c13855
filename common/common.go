// Package common holds constants shared across the node's packages.
package common

// PackageName identifies this service in metrics and logs.
const PackageName = "brightid-node"

// Version is the operation protocol version this node accepts.
const Version = 6
