// Package chat publishes transcripts into a Twitch channel.
//
// TwitchSink wraps a go-twitch-irc client. It starts in Connecting, becomes Ready once
// the server confirms the bot joined TWITCH_CHANNEL, and is Closed after Close or a
// terminal connection error. Publish only sends while Ready; otherwise it returns
// ErrNotReady and the caller decides what to do with the text.
//
// Credentials: the IRC client requires a bot username and a user OAuth token with
// chat:read/chat:edit scopes (TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN). An app token
// from twitchapi cannot be used for chat.
package chat
