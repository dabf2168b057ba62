package chathub

// Notice keys. The transport resolves them against the message catalogs.
const (
	NoticeSearchWaiting      = "search_waiting"
	NoticeSearchAlready      = "search_already"
	NoticeConnected          = "chat_connected"
	NoticeEndedSelf          = "chat_ended_self"
	NoticeEndedPartner       = "chat_ended_partner"
	NoticePartnerMovedOn     = "chat_partner_moved_on"
	NoticeLeft               = "chat_left"
	NoticeUndeliverable      = "chat_undeliverable"
	NoticeReportPrompt       = "report_prompt"
	NoticeStopCancelled      = "stop_cancelled"
	NoticeStopNotActive      = "stop_not_active"
	NoticeWarning            = "moderation_warning"
	NoticeBanned             = "moderation_banned"
	NoticeAmnesty            = "amnesty_granted"
	NoticeSOSQueued          = "sos_queued"
	NoticeSOSAlreadyQueued   = "sos_already_queued"
	NoticeSOSNotIdle         = "sos_not_idle"
	NoticeSOSOperatorNew     = "sos_operator_new"
	NoticeSOSOperatorSkipped = "sos_operator_skipped"
	NoticeSOSConnecting      = "sos_operator_connecting"
	NoticeSOSUserConnecting  = "sos_user_connecting"
	NoticeSOSEmpty           = "sos_empty"
)

func notice(key string, args ...any) Notice {
	return Notice{Key: key, Args: args}
}
