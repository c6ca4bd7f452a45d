package domain

var Tables = []interface{}{
	// Sessions
	&Instance{},
	&InstanceLog{},
	// CRM
	&Contact{},
	&Ticket{},
	&Message{},
}
