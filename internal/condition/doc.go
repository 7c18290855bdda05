// Package condition implements scheduling conditions: leaf predicates over one
// asset partition and boolean combinators that compose them into a tree.
//
// A Condition is an immutable, closed tagged variant. Trees are validated when
// they are built (child counts, cron syntax, window counts) and evaluation
// never fails: a fault inside a primitive evaluates to false with a
// diagnostic, so a data gap in one partition cannot block its siblings.
//
// Evaluation is pure with respect to its Env. Given the same snapshot the same
// tree produces the same values, and And/Or evaluate every child so the
// explanation tree is complete regardless of child order.
package condition
