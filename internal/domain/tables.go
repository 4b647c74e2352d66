package domain

var Tables = []interface{}{
	&User{},
	&Bot{},
	&Message{},
}
