// Package alerts evaluates threshold rules against each new stats summary.
//
// Conditions take the form "field op value" over current, change_1h,
// change_4h, change_24h, change_7d and ath, plus "activity == High" and
// "new_ath == true". A rule fires at most once per cooldown (default 15m)
// and resolves when its condition turns false. Firing and resolution are
// posted to slack, teams or plain http webhooks off the caller's goroutine.
package alerts
