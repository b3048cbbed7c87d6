// Package message assembles structured email messages. A Message holds
// the user-facing content of an email (subject, bodies, recipients,
// attachments) and composes it into a Document, a MIME part tree that a
// delivery backend can serialize onto the wire. Composition rejects
// header values that would let a caller smuggle extra headers into the
// message.
package message
