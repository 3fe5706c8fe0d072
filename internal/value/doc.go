// Package value defines the property values a graph element can hold.
//
// Values form a closed set: String, Int, Bool, Array and Object. Floats and
// null are not representable. Every value has exactly one canonical JSON
// encoding (RFC 8785 key order, NFC-normalized strings) and the secondary
// index addresses values by a domain-separated SHA-256 of that encoding, so
// two values are equal exactly when their canonical bytes are equal.
//
// A missing property is never a Value. Accessors report absence with a
// separate bool.
package value
