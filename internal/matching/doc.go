// Package matching pairs seeking users.
//
// Seeking users wait in a Queue. A pass drains the queue atomically, scores
// every pair of users still seeking, and commits pairs greedily from the
// best score down; a user is committed at most once per pass. Each commit is
// a single store transaction that re-checks both users, so a pass racing a
// dialogue update or another pass cannot double-book anyone. Users left
// over go back in the queue.
//
// Match ids are content addressed from the pair and the pass sequence, so
// the same inputs always produce the same ids.
package matching
