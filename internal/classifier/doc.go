// Package classifier fits linear classifiers on component encodings to
// measure how linearly separable the learned features are.
//
// Two models are supported: multinomial logistic regression and a
// one-vs-rest linear SVM. Both take a regularization constant C; larger
// values regularize less. Evaluate fits one model per C on a training split
// and reports the best accuracy on the held-out split.
package classifier
