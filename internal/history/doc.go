// Package history turns a device's raw connectivity series into week, month
// and all-time views.
//
// Week pages are trailing seven day blocks aligned to UTC days. Month pages
// are calendar months. Every payload carries connected_before, the state of
// the last sample strictly before the window, so a client can draw the
// window's opening segment without fetching the previous page.
package history
