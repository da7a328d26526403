// Package email holds the outbound transports behind sending.EmailSender.
//
// Client talks to a Postmark-style HTTP email API; SESSender uses AWS SES.
// Both classify failures the same way: anything a retry might fix is
// returned as-is (transient), and failures caused by the message or the
// recipient are wrapped with sending.Permanent.
package email
