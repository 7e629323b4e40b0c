// Package component находит функцию компонента по имени.
//
// Реализации функций регистрируются в Registry. Описание компонента
// (component.yaml) связывает имена triggers/actions с реализациями:
//
//	title: HTTP tools
//	version: 1.2.0
//	actions:
//	  request:
//	    main: http
//
// Loader классифицирует ошибки: функции нет в описании — ErrFunctionNotFound,
// описание ссылается на незарегистрированную реализацию — ErrLoad.
package component
